package wasi

import (
	"errors"
	"os"
)

func isNotExist(err error) bool   { return errors.Is(err, os.ErrNotExist) }
func isExist(err error) bool      { return errors.Is(err, os.ErrExist) }
func isPermission(err error) bool { return errors.Is(err, os.ErrPermission) }

//go:build !linux && !darwin

package cryptoutils

import "errors"

func allocLocked(int) ([]byte, bool, error) {
	return nil, false, errors.New("locked memory not supported")
}

func freeLocked([]byte, bool) {}

// Package env reads typed configuration values from the process environment.
package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// Required returns the value of key or an error when it is unset or empty.
func Required(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", errors.New(key + " is required")
	}
	return v, nil
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return lookup(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return lookup(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return lookup(key, def, strconv.Atoi)
}

func lookup[T any](key string, def T, parse func(string) (T, error)) (T, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := parse(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

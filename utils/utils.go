package utils

import (
	"fmt"
	"os"
	"strconv"

	"github.com/danthegoodman1/icescan/gologger"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/segmentio/ksuid"
)

var logger = gologger.NewLogger()

func GetEnvOrDefault(env, defaultVal string) string {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	} else {
		return e
	}
}

func GetEnvOrDefaultInt(env string, defaultVal int64) int64 {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	} else {
		intVal, err := strconv.ParseInt(e, 10, 64)
		if err != nil {
			logger.Error().Msg(fmt.Sprintf("Failed to parse string to int '%s'", env))
			os.Exit(1)
		}

		return intVal
	}
}

// GenKSortedID ids sort by creation time, which keeps scan session ids in
// open order when listed.
func GenKSortedID(prefix string) string {
	return prefix + ksuid.New().String()
}

func GenRandomShortID() string {
	// reduced character set that's less probable to mis-type
	return gonanoid.MustGenerate("abcdefghikmonpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ0123456789", 8)
}

func Ptr[T any](s T) *T {
	return &s
}

func Deref[T any](ref *T, fallback T) T {
	if ref == nil {
		return fallback
	}
	return *ref
}

// IndexOf returns the position of v in s, or -1.
func IndexOf[T comparable](s []T, v T) int {
	for i := range s {
		if s[i] == v {
			return i
		}
	}
	return -1
}

func ContainsString(s []string, str string) bool {
	return IndexOf(s, str) != -1
}

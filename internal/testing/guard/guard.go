package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PERMISO_TEST_MODE") == "" {
			_ = os.Setenv("PERMISO_TEST_MODE", "1")
		}
	})
}

//go:build linux

package tarstream

import (
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the file is read once front to back so
// readahead can grow. Failure only costs performance.
func adviseSequential(f *os.File) {
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		log.Debug().Err(err).Str("path", f.Name()).Msg("fadvise failed")
	}
}

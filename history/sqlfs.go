package history

import (
	"embed"

	"github.com/rorycl/acegen/internal/mounts"
)

//go:embed sql
var sqlFS embed.FS

// SQLMount returns the history SQL files: the embedded copies, or those
// in dir when dir is not empty.
func SQLMount(dir string) (*mounts.FileMount, error) {
	return mounts.New("sql", sqlFS, dir)
}

package alpineami_fixlets

import (
	"os"
	"path"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
	"github.com/karrick/godirwalk"
)

// Scrub removes transient files from the image. Directories are kept, their
// content is removed.
type Scrub struct {
	root  string
	dirs  []string
	files []string

	wzlib_logger.WzLogger
}

// NewScrub constructor
func NewScrub(root string) *Scrub {
	s := new(Scrub)
	s.root = root
	s.dirs = []string{"var/cache/apk", "tmp", "var/tmp"}
	s.files = []string{"root/.ash_history", "etc/resolv.conf"}
	return s
}

func (s *Scrub) empty(dir string) error {
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return nil
	}

	return godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(pathname string, de *godirwalk.Dirent) error {
			if pathname == dir || de.IsDir() {
				return nil
			}
			return os.Remove(pathname)
		},
		PostChildrenCallback: func(pathname string, de *godirwalk.Dirent) error {
			if pathname == dir {
				return nil
			}
			return os.Remove(pathname)
		},
	})
}

// Scrub the root
func (s *Scrub) Scrub() error {
	for _, d := range s.dirs {
		d = path.Join(s.root, d)
		s.GetLogger().Debugf("Scrubbing %s", d)
		if err := s.empty(d); err != nil {
			return err
		}
	}

	for _, f := range s.files {
		f = path.Join(s.root, f)
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/poechat/pkg/filefilter"
)

type attachFlags struct {
	MaxSize     int64
	ExcludeExts []string
	SkipBinary  bool
	NoGitIgnore bool
}

func (a *attachFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&a.MaxSize, "attach-max-size", filefilter.DefaultMaxFileSize, "Maximum size of a single attachment in bytes")
	cmd.Flags().StringSliceVar(&a.ExcludeExts, "attach-exclude", nil, "File extensions to skip when attaching directories")
	cmd.Flags().BoolVar(&a.SkipBinary, "attach-skip-binary", false, "Skip binary files when attaching")
	cmd.Flags().BoolVar(&a.NoGitIgnore, "attach-no-gitignore", false, "Do not apply .gitignore rules to attached directories")
}

func (a *attachFlags) collect(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	opts := []filefilter.FileFilterOption{
		filefilter.WithMaxFileSize(a.MaxSize),
		filefilter.WithExcludeExts(a.ExcludeExts),
		filefilter.WithFilterBinaryFiles(a.SkipBinary),
	}
	if !a.NoGitIgnore {
		if g, err := filefilter.LoadGitIgnore("."); err == nil {
			opts = append(opts, filefilter.WithGitIgnoreFilter(g))
		}
	}
	return filefilter.NewFileFilter(opts...).Collect(paths)
}

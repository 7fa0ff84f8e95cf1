package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inercia/analyst/internal/decode"
	"github.com/inercia/analyst/internal/fileutil"
)

var imageOutput string

var imageCmd = &cobra.Command{
	Use:   "image IMAGE_PATH",
	Short: "Download an image generated by the assistant",
	Long: `Download an image generated by the assistant.

IMAGE_PATH may be the server-side path reported by the assistant (Windows
or POSIX) or a bare file name; only the final component is requested.

Examples:
  analyst image 'C:\analysis\output\plot.png'
  analyst image plot.png -o /tmp/plot.png`,
	Args: cobra.ExactArgs(1),
	RunE: runImage,
}

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.Flags().StringVarP(&imageOutput, "output", "o", "", "Output file (default: the image file name in the current directory)")
}

func runImage(cmd *cobra.Command, args []string) error {
	name := decode.Filename(args[0])
	if name == "" {
		return fmt.Errorf("no file name in %q", args[0])
	}
	out := imageOutput
	if out == "" {
		out = name
	}

	api := newClient()
	var size int64
	var contentType string
	err := fileutil.WriteAtomic(out, 0644, func(w io.Writer) error {
		var err error
		size, contentType, err = api.FetchImage(cmd.Context(), name, w)
		return err
	})
	if err != nil {
		return err
	}

	abs, _ := filepath.Abs(out)
	fmt.Fprintf(cmd.OutOrStdout(), "🖼️  Saved %s (%d bytes, %s) to %s\n", name, size, contentType, abs)
	return nil
}

// Command dfsutil is a small administrative front-end over pkg/dfs: format,
// and stat (mount and report statfs), driven from the shell the way the
// filesystem's VFS collaborator would drive it programmatically.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mringgaard/dfs/pkg/dfs"
	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/elog"
)

var log elog.View

var (
	flagVerbose bool
	flagDebug   bool
	flagOptions string
)

var rootCmd = &cobra.Command{
	Use:   "dfsutil",
	Short: "Administer DFS filesystem images",
}

var formatCmd = &cobra.Command{
	Use:   "format IMAGE",
	Short: "Format IMAGE as a fresh DFS filesystem",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := blockdev.OpenFile(args[0], os.O_RDWR)
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer dev.Close()

		if err := dfs.Format(dev, flagOptions, log); err != nil {
			return fmt.Errorf("formatting %s: %w", args[0], err)
		}
		log.Infof("formatted %s", args[0])
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat IMAGE",
	Short: "Mount IMAGE and print its statfs summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := blockdev.OpenFile(args[0], os.O_RDWR)
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer dev.Close()

		fs, err := dfs.Mount(dev, flagOptions)
		if err != nil {
			return fmt.Errorf("mounting %s: %w", args[0], err)
		}
		defer fs.Unmount()

		st := fs.Statfs()
		fmt.Printf("bsize:      %d\n", st.BlockSize)
		fmt.Printf("blocks:     %d\n", st.Blocks)
		fmt.Printf("free:       %d\n", st.FreeBlocks)
		fmt.Printf("files:      %d\n", st.Files)
		fmt.Printf("free files: %d\n", st.FreeFiles)
		fmt.Printf("cache:      %d bytes\n", st.CacheSizeBytes)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	formatCmd.Flags().StringVarP(&flagOptions, "options", "o", "", "comma-separated format options (blocksize=,cache=,inoderatio=,resvblks=,resvinodes=,quick)")
	statCmd.Flags().StringVarP(&flagOptions, "options", "o", "", "comma-separated mount options (cache=)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		return nil
	}

	rootCmd.AddCommand(formatCmd, statCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

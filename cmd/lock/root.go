package lock

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ValentinKolb/fKV/cmd/util"
	"github.com/ValentinKolb/fKV/lib/liveness"
	"github.com/ValentinKolb/fKV/lib/lockfile"
	"github.com/spf13/cobra"
)

var (
	storeConfig *util.StoreConfig

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations on a backing file",
		PersistentPreRunE: setupLockConfig,
	}

	// statusCmd represents the status command
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show who holds the lock for the configured file",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	// runCmd represents the run command
	runCmd = &cobra.Command{
		Use:   "run [command] [args...]",
		Short: "Run a command while holding the lock",
		Long:  "Acquire the lock for the configured file (blocking, bounded by the timeout), run the given command, and release the lock on every exit path.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runUnderLock,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(statusCmd)
	LockCommands.AddCommand(runCmd)

	// Add common backing-path flags to the lock command
	util.SetupStoreFlags(LockCommands)
}

// setupLockConfig reads the backing-path configuration
func setupLockConfig(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	storeConfig, err = util.GetStoreConfig()
	return err
}

// runStatus handles the lock status command
func runStatus(_ *cobra.Command, _ []string) error {
	markerPath := storeConfig.Path + lockfile.MarkerSuffix

	data, err := os.ReadFile(markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("locked=false\n")
			return nil
		}
		return fmt.Errorf("failed to read marker: %v", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		fmt.Printf("locked=true, owner=malformed (content %q)\n", data)
		return nil
	}

	if liveness.New().Alive(pid) {
		fmt.Printf("locked=true, owner=%d\n", pid)
	} else {
		fmt.Printf("locked=true, owner=%d (stale, process is gone)\n", pid)
	}
	return nil
}

// runUnderLock handles the lock run command
func runUnderLock(_ *cobra.Command, args []string) error {
	lck := lockfile.NewWithOracle(
		storeConfig.Path,
		storeConfig.Timeout,
		storeConfig.RetryInterval,
		liveness.New(),
	)

	return lck.WithLock(func() error {
		child := exec.Command(args[0], args[1:]...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr

		if err := child.Run(); err != nil {
			return fmt.Errorf("command failed: %v", err)
		}
		return nil
	})
}

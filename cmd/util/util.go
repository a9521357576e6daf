package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// StoreConfig holds the file and lock parameters shared by all commands
// that operate on a backing path.
type StoreConfig struct {
	Path          string
	Timeout       time.Duration
	RetryInterval time.Duration
}

// SetupStoreFlags adds the common backing-path flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "file"
	cmd.PersistentFlags().String(key, "", WrapString("Path of the backing JSON document (the lock marker is created next to it)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 3000, WrapString("How long a blocking lock acquisition may wait (in milliseconds)"))

	key = "retry-interval"
	cmd.PersistentFlags().Int(key, 50, WrapString("Polling period between lock acquisition attempts (in milliseconds)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("fkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStoreConfig reads the backing-path configuration from viper
func GetStoreConfig() (*StoreConfig, error) {
	path := viper.GetString("file")
	if path == "" {
		return nil, fmt.Errorf("no backing file configured (use --file or FKV_FILE)")
	}

	return &StoreConfig{
		Path:          path,
		Timeout:       time.Duration(viper.GetInt("timeout")) * time.Millisecond,
		RetryInterval: time.Duration(viper.GetInt("retry-interval")) * time.Millisecond,
	}, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/hostbeat/hostbeat/internal/config"
)

// initCommand writes a default config file into the current directory.
func initCommand(force bool) error {
	path := filepath.Join(".", config.ConfigFileName)

	if err := config.WriteDefault(path, force); err != nil {
		return err
	}

	fmt.Printf("Created %s\n\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  hostbeat watch     - Live terminal dashboard")
	fmt.Println("  hostbeat serve     - Run the metrics server")
	fmt.Println("  hostbeat snapshot  - Print one snapshot as JSON")
	fmt.Println()
	fmt.Println("Edit the file to add remote hosts under 'hosts:'.")

	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hostbeat/hostbeat/internal/errors"
)

const configHeader = `# hostbeat configuration
# Run 'hostbeat serve' to start the metrics server
# Run 'hostbeat watch' for a live terminal view

`

// exampleHost is appended to the generated file as a commented template,
// so users see the host shape without hostbeat trying to connect anywhere.
const exampleHost = `
# Remote hosts to monitor. Missing fields are filled from ~/.ssh/config.
# hosts:
#   db:
#     hostname: db.example.com
#     port: "22"
#     username: deploy
#     identity_file: ~/.ssh/id_ed25519
# default: db
`

// WriteDefault renders the default config to path. It refuses to overwrite
// an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Config file already exists: %s", path),
			"Use --force to overwrite")
	}

	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to generate config",
			"This shouldn't happen - please report this bug")
	}

	content := configHeader + string(data) + exampleHost

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Failed to write config file: %s", path),
			"Check directory permissions")
	}

	return nil
}

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/replica-install/internal/domain/install"
	"github.com/felixgeelhaar/replica-install/internal/domain/step"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml/v2"
)

// LoadDescriptor reads and validates a replica descriptor. The format is
// chosen by extension: .yaml/.yml, .json or .toml.
func LoadDescriptor(path string) (step.Replica, error) {
	var r step.Replica

	data, err := os.ReadFile(path)
	if err != nil {
		msg := "cannot read replica file"
		if errors.Is(err, fs.ErrNotExist) {
			msg = "replica file does not exist"
		}
		return r, install.NewValidationError("REPLICA_FILE", msg).
			WithSuggestion("Pass the path to the replica descriptor prepared on the master.").
			WithUnderlying(err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return r, install.NewValidationError("REPLICA_FILE", "replica file is empty")
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = unmarshalKoanf(data, yaml.Parser(), &r)
	case ".json":
		err = unmarshalKoanf(data, json.Parser(), &r)
	case ".toml":
		err = toml.Unmarshal(data, &r)
	default:
		return r, install.NewValidationError("REPLICA_FILE", fmt.Sprintf("unsupported replica file format %q", ext)).
			WithSuggestion("Use a .yaml, .json or .toml descriptor.")
	}
	if err != nil {
		return r, install.NewValidationError("REPLICA_FILE", "cannot parse replica file").WithUnderlying(err)
	}

	if err := r.Validate(); err != nil {
		return r, install.NewValidationError("REPLICA_FILE", "invalid replica file").WithUnderlying(err)
	}
	return r, nil
}

func unmarshalKoanf(data []byte, parser koanf.Parser, r *step.Replica) error {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return err
	}
	return k.UnmarshalWithConf("", r, koanf.UnmarshalConf{Tag: "koanf"})
}

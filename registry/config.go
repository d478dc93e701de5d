package registry

import (
	"github.com/BurntSushi/toml"
	"github.com/mvkdcrypto/rpregistry/field"
	"github.com/mvkdcrypto/rpregistry/merkle"
	"github.com/pkg/errors"
)

// DefaultRootValidityWindow is how long, in seconds, a root stays
// acceptable after it was last produced.
const DefaultRootValidityWindow = 3600

type Config struct {
	Depth      int    `toml:"depth"`
	HasherName string `toml:"hasher"`

	// RootValidityWindow is the initial window in seconds. 0 means roots
	// never expire.
	RootValidityWindow uint64 `toml:"root_validity_window"`

	// Owner is the only caller OwnerAuthorizer lets through to mutators.
	Owner string `toml:"owner"`
}

func DefaultConfig() Config {
	return Config{
		Depth:              merkle.DefaultDepth,
		HasherName:         field.Poseidon2Name,
		RootValidityWindow: DefaultRootValidityWindow,
	}
}

// NewConfig makes a config with the given shape and validates it.
func NewConfig(depth int, hasherName string, window uint64, owner string) (Config, error) {
	c := Config{Depth: depth, HasherName: hasherName, RootValidityWindow: window, Owner: owner}
	if _, err := c.TreeConfig(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// TreeConfig resolves the hasher and returns the config of the underlying
// tree.
func (c Config) TreeConfig() (merkle.Config, error) {
	h, err := field.NewHasher(c.HasherName)
	if err != nil {
		return merkle.Config{}, merkle.NewInvalidConfigError(err.Error())
	}
	return merkle.NewConfig(h, c.Depth)
}

// LoadConfigFile reads a toml file on top of DefaultConfig, so keys the file
// leaves out keep their defaults, and validates the result.
func LoadConfigFile(path string) (Config, error) {
	c := DefaultConfig()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, errors.Wrapf(err, "cannot load config from %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, merkle.NewInvalidConfigError("unknown key " + undecoded[0].String())
	}
	if _, err := c.TreeConfig(); err != nil {
		return Config{}, err
	}
	return c, nil
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-engine/storage"
)

// Seed is the YAML fixture format accepted by LoadSeed:
//
//	clients:
//	  - client_id: web
//	    client_secret: s3cret
//	    redirect_uris: [https://app.example.com/callback]
//	    allowed_grant_type: authorization_code
//	users:
//	  - username: alice            # id defaults to a random UUID
//	    password: plaintext   # or password_hash: $2a$10$...
//	resource_servers:
//	  - username: api
//	    password: api-secret
type Seed struct {
	Clients         []storage.Client         `yaml:"clients"`
	Users           []SeedUser               `yaml:"users"`
	ResourceServers []storage.ResourceServer `yaml:"resource_servers"`
}

// SeedUser is a user fixture. Password, when set, is hashed on load and
// takes precedence over PasswordHash.
type SeedUser struct {
	storage.User `yaml:",inline"`
	Password     string `yaml:"password"`
}

// Seeder stores fixtures. Every storage backend of this module implements it.
type Seeder interface {
	SaveClient(ctx context.Context, client *storage.Client) error
	SaveUser(ctx context.Context, user *storage.User) error
	SaveResourceServer(ctx context.Context, rs *storage.ResourceServer) error
}

var _ Seeder = (*Store)(nil)

// ReadSeedFile parses fixtures from a YAML file
func ReadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ReadSeed(f)
}

// ReadSeed parses fixtures from YAML. An empty document is an empty seed.
func ReadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// ApplyTo stores every fixture of seed in dst, hashing plaintext passwords
func (seed *Seed) ApplyTo(ctx context.Context, dst Seeder) error {
	for i := range seed.Clients {
		if err := dst.SaveClient(ctx, &seed.Clients[i]); err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
	}

	for i := range seed.Users {
		user := seed.Users[i].User
		if user.ID == "" {
			user.ID = uuid.NewString()
		}
		if seed.Users[i].Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(seed.Users[i].Password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("user %q: failed to hash password: %w", user.Username, err)
			}
			user.PasswordHash = string(hash)
		}
		if err := dst.SaveUser(ctx, &user); err != nil {
			return fmt.Errorf("user %q: %w", user.Username, err)
		}
	}

	for i := range seed.ResourceServers {
		if err := dst.SaveResourceServer(ctx, &seed.ResourceServers[i]); err != nil {
			return fmt.Errorf("resource server %d: %w", i, err)
		}
	}
	return nil
}

// LoadSeedFile loads fixtures from a YAML file
func (s *Store) LoadSeedFile(path string) error {
	seed, err := ReadSeedFile(path)
	if err != nil {
		return err
	}
	return s.Apply(context.Background(), seed)
}

// LoadSeed loads fixtures from YAML
func (s *Store) LoadSeed(r io.Reader) error {
	seed, err := ReadSeed(r)
	if err != nil {
		return err
	}
	return s.Apply(context.Background(), seed)
}

// Apply stores every fixture of seed
func (s *Store) Apply(ctx context.Context, seed *Seed) error {
	if err := seed.ApplyTo(ctx, s); err != nil {
		return err
	}

	s.logger.Info("Loaded seed fixtures",
		"clients", len(seed.Clients),
		"users", len(seed.Users),
		"resource_servers", len(seed.ResourceServers))
	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CredentialEnv is the secret name holding the API key.
func (c *Config) CredentialEnv() string {
	if c.LLM.APIKeyEnv != "" {
		return c.LLM.APIKeyEnv
	}
	if c.LLM.Provider == "openai" {
		return "OPENAI_API_KEY"
	}
	return "GOOGLE_API_KEY"
}

// Credential looks the API key up in the environment, then in the secrets
// file. It returns ErrMissingCredential when neither has it.
func (c *Config) Credential() (string, error) {
	name := c.CredentialEnv()
	if v := os.Getenv(name); v != "" {
		return v, nil
	}

	secrets, err := loadSecrets(c.SecretsFile)
	if err != nil {
		return "", err
	}
	if v := secrets[name]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: set %s in the environment or in %s", ErrMissingCredential, name, c.SecretsFile)
}

func loadSecrets(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	var secrets map[string]string
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

package githubauth

import (
	"os"
	"strings"
)

// Environment variable names used by GitHub authentication helpers.
const (
	EnvGitHubCLIToken           = "GH_TOKEN"
	EnvGitHubToken              = "GITHUB_TOKEN"
	EnvGitHubEnterpriseCLIToken = "GH_ENTERPRISE_TOKEN"
	EnvGitHubEnterpriseToken    = "GITHUB_ENTERPRISE_TOKEN"
	EnvImporterTargetToken      = "GH_PAT"
	EnvImporterSourceToken      = "GH_SOURCE_PAT"
)

// GitHubDotComHost is the host name of the hosted github.com service.
const GitHubDotComHost = "github.com"

var tokenPreference = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
}

var enterpriseTokenPreference = []string{
	EnvGitHubEnterpriseCLIToken,
	EnvGitHubEnterpriseToken,
}

var importerTokenRequirements = []string{
	EnvImporterTargetToken,
	EnvImporterSourceToken,
}

// ResolveToken returns the first non-empty github.com authentication token
// observed in the provided environment map or the process environment.
func ResolveToken(environment map[string]string) (string, bool) {
	return resolvePreferred(tokenPreference, environment)
}

// ResolveHostToken returns the token preferred for the supplied host. Hosts
// other than github.com consult the enterprise token variables.
func ResolveHostToken(host string, environment map[string]string) (string, bool) {
	if isEnterpriseHost(host) {
		return resolvePreferred(enterpriseTokenPreference, environment)
	}
	return resolvePreferred(tokenPreference, environment)
}

// TokenVariableForHost names the gh CLI variable consulted for the host, so a
// resolved token can be re-exported under the name gh expects.
func TokenVariableForHost(host string) string {
	if isEnterpriseHost(host) {
		return EnvGitHubEnterpriseCLIToken
	}
	return EnvGitHubCLIToken
}

// MissingImporterVariables reports the importer credential variables that are
// absent from both the provided environment map and the process environment.
func MissingImporterVariables(environment map[string]string) []string {
	missingVariables := []string{}
	for _, variableName := range importerTokenRequirements {
		if _, found := resolvePreferred([]string{variableName}, environment); !found {
			missingVariables = append(missingVariables, variableName)
		}
	}
	return missingVariables
}

func isEnterpriseHost(host string) bool {
	trimmedHost := strings.TrimSpace(strings.ToLower(host))
	return len(trimmedHost) > 0 && trimmedHost != GitHubDotComHost
}

func resolvePreferred(preference []string, environment map[string]string) (string, bool) {
	for _, key := range preference {
		if value, ok := lookup(environment, key); ok {
			return value, true
		}
	}
	for _, key := range preference {
		if value, ok := os.LookupEnv(key); ok {
			value = strings.TrimSpace(value)
			if len(value) > 0 {
				return value, true
			}
		}
	}
	return "", false
}

func lookup(environment map[string]string, key string) (string, bool) {
	if environment == nil {
		return "", false
	}
	value, exists := environment[key]
	if !exists {
		return "", false
	}
	value = strings.TrimSpace(value)
	if len(value) == 0 {
		return "", false
	}
	return value, true
}

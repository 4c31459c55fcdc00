package mesh

import "strings"

// StdioConfig parses the stdio launch parameters carried in
// ConnectionHeaders for a STDIO connection. Only Command is required;
// Args/Env/Cwd fall back to zero values when absent.
func (c *Connection) StdioConfig() StdioConfig {
	cfg := StdioConfig{
		Command: c.ConnectionHeaders["command"],
		Cwd:     c.ConnectionHeaders["cwd"],
	}
	if raw := c.ConnectionHeaders["args"]; raw != "" {
		cfg.Args = strings.Split(raw, "\x00")
	}
	env := make(map[string]string)
	const envPrefix = "env."
	for k, v := range c.ConnectionHeaders {
		if strings.HasPrefix(k, envPrefix) {
			env[strings.TrimPrefix(k, envPrefix)] = v
		}
	}
	cfg.Env = env
	return cfg
}

// VirtualMCPTargetID returns the id of the VirtualMCP a VIRTUAL connection
// resolves to. The connection_url is expected in the form
// "virtual://<vmcp_id>"; a URL without that scheme is returned unchanged,
// as a bare id. A non-VIRTUAL connection returns "".
func (c *Connection) VirtualMCPTargetID() string {
	if c.ConnectionType != ConnectionVirtual {
		return ""
	}
	const scheme = "virtual://"
	if strings.HasPrefix(c.ConnectionURL, scheme) {
		return strings.TrimPrefix(c.ConnectionURL, scheme)
	}
	return c.ConnectionURL
}

// ConnectionPermissions is the mapping referenced-connection-id -> scopes
// derived from a connection's configuration_state / configuration_scopes
// (spec §4.D mesh-token claims).
type ConnectionPermissions map[string][]string

// ExtractPermissions derives the connection-permission claims carried by
// this connection's configuration_scopes. Each scope entry is either
// "KEY::SCOPE" (grants SCOPE on the connection referenced by KEY, looked
// up in configuration_state) or the literal "*" (grants unrestricted
// access, recorded under the wildcard key).
func (c *Connection) ExtractPermissions() ConnectionPermissions {
	perms := ConnectionPermissions{}
	for _, entry := range c.ConfigurationScopes {
		if entry == "*" {
			perms["*"] = append(perms["*"], "*")
			continue
		}
		parts := strings.SplitN(entry, "::", 2)
		if len(parts) != 2 {
			continue
		}
		key, scope := parts[0], parts[1]
		refConnID, ok := lookupReferencedConnectionID(c.ConfigurationState, key)
		if !ok {
			continue
		}
		perms[refConnID] = append(perms[refConnID], scope)
	}
	return perms
}

func lookupReferencedConnectionID(state map[string]any, key string) (string, bool) {
	if state == nil {
		return "", false
	}
	v, ok := state[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

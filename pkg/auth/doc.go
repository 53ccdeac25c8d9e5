// Package auth defines the identity data model shared by the login engine,
// its plugins and the permission layer.
//
// This package defines:
//
//   - Principal: one typed identity claim (username, uid, gid, DN, FQAN, ...)
//   - Subject: a set of principals plus opaque credentials
//   - Attribute / AttributeSet: session properties (home, root, read-only, ...)
//   - LoginReply: the enriched Subject and attributes produced by a login
//   - LoginStrategy: the interface every login stage implements
//   - AuthenticationError / PluginError: the login error taxonomy
//
// Credential parsing is not done here. Callers that decode X.509 chains,
// Kerberos tickets or bearer tokens add the resulting principals to a Subject
// and attach the raw material as public or private credentials.
package auth

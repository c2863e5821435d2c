// Package password hashes, verifies, validates and generates passwords.
//
// # Stored format
//
// Every hash produced here carries an algorithm tag:
//
//	argon2id:$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//	bcrypt:$2b$<cost>$<salt+hash>
//
// Untagged strings are decoded as legacy bcrypt. [Decode] turns a stored
// string into a [Scheme] once; [Hasher] verifies by switching over the
// variant. [Hasher.NeedsRehash] reports bcrypt, legacy and under-parameterised
// argon2id hashes so the caller can migrate them after a successful login.
//
// # Policy
//
// [PolicyEngine.Validate] evaluates every rule and returns all violations
// together. [PolicyEngine.Generate] produces passwords that pass Validate.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords or hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords.
package password

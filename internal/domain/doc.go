// Package domain contains the core job entities, status values, and error
// taxonomy of the lifecycle subsystem, independent of any transport or
// storage mechanism.
package domain

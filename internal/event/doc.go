// Package event persists well events received as tblEvents update envelopes.
package event

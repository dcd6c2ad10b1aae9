// Package types defines the data model shared by every coco component:
// Types, Items and their Values, the Property variants and the PropertyType
// plugin contract, the listener interfaces used for fan-out, the credential
// store contract, client configuration, and the standard error values.
//
// Types and Items are created only by the schema registry. Their exported
// fields are read-only once the registry publishes them; instance sets and
// value histories are guarded internally and change only through the
// registry.
package types

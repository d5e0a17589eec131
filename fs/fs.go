// Package appfs embeds the files the application needs at runtime.
package appfs

import "embed"

//go:embed migrations/*.sql templates/email/* schemas/*.yaml common-passwords.txt.gz
var FS embed.FS

package router

import (
	"path/filepath"
	"strings"
)

// DefaultMIME es el tipo para extensiones desconocidas.
const DefaultMIME = "application/octet-stream"

var builtinMIME = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".txt":  "text/plain",
	".css":  "text/css",
	".csv":  "text/csv",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".zip":  "application/zip",
}

// MIMETable resuelve tipos por extensión (sin distinguir mayúsculas).
type MIMETable map[string]string

// NewMIMETable mezcla extra sobre la tabla incorporada. Las claves pueden
// venir con o sin punto.
func NewMIMETable(extra map[string]string) MIMETable {
	t := make(MIMETable, len(builtinMIME)+len(extra))
	for k, v := range builtinMIME {
		t[k] = v
	}
	for k, v := range extra {
		k = strings.ToLower(k)
		if !strings.HasPrefix(k, ".") {
			k = "." + k
		}
		t[k] = v
	}
	return t
}

func (t MIMETable) Lookup(name string) string {
	if m, ok := t[strings.ToLower(filepath.Ext(name))]; ok {
		return m
	}
	return DefaultMIME
}

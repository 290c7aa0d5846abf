package http1

import (
	"bufio"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Request modela la cabecera cruda de una petición GET.
// Nota: headers se normalizan a lower-case y la última aparición gana.
type Request struct {
	Method  string
	Target  string
	Version string
	Header  map[string]string
}

// Límite de bytes para request-line + headers.
const MaxHeaderBytes = 16 << 10

var (
	// ErrBadRequest cubre malformaciones: líneas sin CRLF, request-line inválida,
	// fin de stream antes de la línea en blanco, cabecera demasiado grande.
	ErrBadRequest = errors.New("malformed request")
	// ErrBadMethod se usa cuando el método no es GET.
	ErrBadMethod = errors.New("unsupported method (GET only)")
	// ErrBadProto se usa cuando la versión no es HTTP/1.0 ni HTTP/1.1.
	ErrBadProto = errors.New("unsupported protocol (HTTP/1.0, HTTP/1.1)")
)

// ParseRequest lee la cabecera de una petición desde r.
// Formato requerido:
//
//	request-line: "GET SP target SP HTTP/1.x CRLF"
//	0..N header-lines terminadas en CRLF
//	línea en blanco CRLF que cierra los headers
//
// Las líneas de header sin ':' se ignoran; sólo Host y Cookie se interpretan
// más adelante.
func ParseRequest(r *bufio.Reader) (*Request, error) {
	read := 0
	next := func() (string, error) {
		var line []byte
		for {
			// ReadSlice devuelve a lo sumo un buffer por vuelta: el límite se
			// controla mientras se lee, no al final de la línea
			chunk, err := r.ReadSlice('\n')
			read += len(chunk)
			if read > MaxHeaderBytes {
				return "", errors.Wrap(ErrBadRequest, "header too large")
			}
			line = append(line, chunk...)
			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return "", errors.Wrap(ErrBadRequest, "premature end of stream")
			}
			return "", errors.Wrap(err, "read request")
		}
		l := string(line)
		if !strings.HasSuffix(l, "\r\n") {
			return "", errors.Wrap(ErrBadRequest, "line without CRLF")
		}
		return strings.TrimSuffix(l, "\r\n"), nil
	}

	// request-line
	line, err := next()
	if err != nil {
		return nil, err
	}
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, errors.Wrapf(ErrBadRequest, "request line has %d fields", len(parts))
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method != "GET" {
		return nil, errors.Wrap(ErrBadMethod, method)
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		return nil, errors.Wrap(ErrBadProto, version)
	}
	if target == "" {
		return nil, errors.Wrap(ErrBadRequest, "empty target")
	}

	// headers
	h := map[string]string{}
	for {
		l, err := next()
		if err != nil {
			return nil, err
		}
		if l == "" {
			break // fin de headers
		}
		kv := strings.SplitN(l, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		h[key] = strings.TrimSpace(kv[1])
	}

	return &Request{Method: method, Target: target, Version: version, Header: h}, nil
}

// Host devuelve el valor de la cabecera Host (vacío si no vino).
func (r *Request) Host() string { return r.Header["host"] }

// Cookie devuelve la cabecera Cookie cruda.
func (r *Request) Cookie() string { return r.Header["cookie"] }

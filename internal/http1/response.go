package http1

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// ErrAlreadyCommitted se devuelve al configurar una respuesta cuya cabecera
// ya fue emitida.
var ErrAlreadyCommitted = errors.New("response already committed")

// DefaultEncoding se usa cuando la codificación pedida no existe.
const DefaultEncoding = "UTF-8"

type flusher interface {
	Flush() error
}

// ResponseContext acumula status, tipo y cookies de un ciclo
// petición/respuesta y los emite una sola vez, antes del primer byte del
// cuerpo. No es seguro para uso concurrente: pertenece a una conexión.
type ResponseContext struct {
	w         io.Writer
	encName   string
	enc       encoding.Encoding
	code      int
	text      string
	mime      string
	length    int64
	cookies   []Cookie
	committed bool
}

// NewResponseContext crea un contexto con 200 OK, text/html y UTF-8.
func NewResponseContext(w io.Writer) *ResponseContext {
	return &ResponseContext{
		w:       w,
		encName: DefaultEncoding,
		enc:     unicode.UTF8,
		code:    200,
		text:    "OK",
		mime:    "text/html",
		length:  -1,
	}
}

func (rc *ResponseContext) Committed() bool  { return rc.committed }
func (rc *ResponseContext) StatusCode() int  { return rc.code }
func (rc *ResponseContext) Encoding() string { return rc.encName }
func (rc *ResponseContext) MimeType() string { return rc.mime }

// SetEncoding acepta cualquier nombre o alias IANA; si no se reconoce
// se vuelve a UTF-8 sin error.
func (rc *ResponseContext) SetEncoding(name string) error {
	if rc.committed {
		return ErrAlreadyCommitted
	}
	rc.encName, rc.enc = lookupEncoding(name)
	return nil
}

func (rc *ResponseContext) SetStatusCode(code int) error {
	if rc.committed {
		return ErrAlreadyCommitted
	}
	rc.code = code
	return nil
}

func (rc *ResponseContext) SetStatusText(text string) error {
	if rc.committed {
		return ErrAlreadyCommitted
	}
	rc.text = text
	return nil
}

// SetStatus fija código y texto estándar de una vez.
func (rc *ResponseContext) SetStatus(code int) error {
	if err := rc.SetStatusCode(code); err != nil {
		return err
	}
	return rc.SetStatusText(StatusText(code))
}

func (rc *ResponseContext) SetMimeType(mime string) error {
	if rc.committed {
		return ErrAlreadyCommitted
	}
	rc.mime = mime
	return nil
}

// SetByteLength fija Content-Length; un valor negativo lo omite.
func (rc *ResponseContext) SetByteLength(n int64) error {
	if rc.committed {
		return ErrAlreadyCommitted
	}
	if n < 0 {
		n = -1
	}
	rc.length = n
	return nil
}

func (rc *ResponseContext) AddCookie(c Cookie) error {
	if rc.committed {
		return ErrAlreadyCommitted
	}
	rc.cookies = append(rc.cookies, c)
	return nil
}

// Write emite la cabecera en la primera llamada y luego p tal cual.
// Un slice nil no hace nada.
func (rc *ResponseContext) Write(p []byte) (int, error) {
	if p == nil {
		return 0, nil
	}
	if err := rc.Commit(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := rc.w.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "write body")
	}
	return n, rc.flush()
}

// WriteString codifica s con la codificación configurada.
func (rc *ResponseContext) WriteString(s string) (int, error) {
	b, err := rc.encode(s)
	if err != nil {
		return 0, err
	}
	if b == nil {
		b = []byte{}
	}
	return rc.Write(b)
}

// Commit emite la cabecera si aún no se emitió. Útil para respuestas sin
// cuerpo (archivo vacío).
func (rc *ResponseContext) Commit() error {
	if rc.committed {
		return nil
	}
	// se marca antes de escribir: la cabecera nunca se reemite
	rc.committed = true
	if _, err := rc.w.Write(rc.header()); err != nil {
		return errors.Wrap(err, "write header")
	}
	return rc.flush()
}

func (rc *ResponseContext) flush() error {
	if f, ok := rc.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, "flush")
		}
	}
	return nil
}

func (rc *ResponseContext) encode(s string) ([]byte, error) {
	if rc.enc == unicode.UTF8 {
		return []byte(s), nil
	}
	out, err := encoding.ReplaceUnsupported(rc.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", rc.encName)
	}
	return out, nil
}

func (rc *ResponseContext) header() []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(rc.code))
	b.WriteString(" ")
	b.WriteString(rc.text)
	b.WriteString("\r\n")
	if rc.length >= 0 {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.FormatInt(rc.length, 10))
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Type: ")
	b.WriteString(rc.mime)
	if strings.HasPrefix(rc.mime, "text/") {
		b.WriteString("; charset=")
		b.WriteString(rc.encName)
	}
	b.WriteString("\r\n")
	for _, c := range rc.cookies {
		b.WriteString("Set-Cookie: ")
		b.WriteString(c.headerValue())
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func lookupEncoding(name string) (string, encoding.Encoding) {
	if name == "" {
		return DefaultEncoding, unicode.UTF8
	}
	e, err := ianaindex.MIME.Encoding(name)
	if err != nil || e == nil {
		return DefaultEncoding, unicode.UTF8
	}
	canon, err := ianaindex.MIME.Name(e)
	if err != nil {
		if canon, err = ianaindex.IANA.Name(e); err != nil {
			return DefaultEncoding, unicode.UTF8
		}
	}
	if canon == DefaultEncoding {
		return DefaultEncoding, unicode.UTF8
	}
	return canon, e
}

// StatusText cubre los códigos que emite el servidor.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}

package resp

import (
	"so-appserver/internal/http1"
)

// Result es la salida simple de un handler: status y cuerpo ya serializado.
// Si JSON es true, Body contiene un JSON serializado; si no, texto plano.
type Result struct {
	Status int
	Body   string
	JSON   bool
}

// Constructores auxiliares para mantener consistencia en todo el árbol.
func PlainOK(body string) Result { return Result{200, body, false} }
func JSONOK(json string) Result  { return Result{200, json, true} }

// BadReq y NotFound son texto plano: el cliente no distingue más detalle.
func BadReq(detail string) Result { return Result{400, "400 Bad Request: " + detail + "\n", false} }
func NotFound() Result            { return Result{404, "404 Not Found\n", false} }

// Welcome es la respuesta fija de "/".
func Welcome() Result { return PlainOK("Welcome to so-appserver.\n") }

// Send vuelca r sobre el contexto: status, tipo, longitud y cuerpo.
// Falla con http1.ErrAlreadyCommitted si la cabecera ya salió.
func Send(rc *http1.ResponseContext, r Result) error {
	mime := "text/plain"
	if r.JSON {
		mime = "application/json"
	}
	if err := rc.SetStatus(r.Status); err != nil {
		return err
	}
	if err := rc.SetMimeType(mime); err != nil {
		return err
	}
	if err := rc.SetEncoding(http1.DefaultEncoding); err != nil {
		return err
	}
	if err := rc.SetByteLength(int64(len(r.Body))); err != nil {
		return err
	}
	_, err := rc.WriteString(r.Body)
	return err
}

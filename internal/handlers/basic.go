package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"so-appserver/internal/resp"
)

// helpText lista las rutas incorporadas (sólo GET).
func helpText() string {
	return strings.TrimSpace(`
/                      -> bienvenida
/help                  -> este listado
/status                -> estado del proceso (pid, uptime, conexiones, pool, sesiones)
/metrics               -> métricas Prometheus (si están habilitadas)

/counter               -> incrementa el contador de la sesión
/forward?to=/ruta      -> despacho interno (alcanza /private)
/fibonacci?num=N       -> N-ésimo (iterativo)
/reverse?text=abc      -> invierte texto
/toupper?text=abc      -> a MAYÚSCULAS
/random?count=n&min=a&max=b -> n enteros aleatorios
/timestamp             -> JSON con epoch/UTC
/hash?text=abc         -> SHA-256 (hex)

/ext/echo              -> parámetros temporales
/ext/session           -> id y datos de la sesión
/<archivo>             -> estático bajo la raíz; .script se renderiza
`) + "\n"
}

// timestampCore devuelve epoch unix y fecha UTC ISO 8601.
func timestampCore(now time.Time) string {
	now = now.UTC()
	b, _ := json.Marshal(map[string]any{
		"unix": now.Unix(),
		"utc":  now.Format(time.RFC3339),
	})
	return string(b)
}

// reverseCore invierte runas y agrega salto de línea.
func reverseCore(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r) + "\n"
}

func toUpperCore(s string) string { return strings.ToUpper(s) + "\n" }

// hashCore calcula SHA-256 del texto y devuelve JSON con el hex.
func hashCore(text string) string {
	sum := sha256.Sum256([]byte(text))
	b, _ := json.Marshal(map[string]string{
		"algo": "sha256",
		"hex":  hex.EncodeToString(sum[:]),
	})
	return string(b)
}

// randomCore genera n enteros uniformes en [min,max]; n se acota a 1..1000.
func randomCore(n, min, max int) string {
	if n <= 0 {
		n = 1
	}
	if n > 1000 {
		n = 1000
	}
	if max < min {
		max, min = min, max
	}
	arr := make([]int, n)
	for i := range arr {
		arr[i] = min + rand.IntN(max-min+1)
	}
	b, _ := json.Marshal(map[string]any{"values": arr})
	return string(b)
}

// fibonacciCore calcula el N-ésimo Fibonacci de forma iterativa.
func fibonacciCore(n int) string {
	if n <= 1 {
		return fmt.Sprintf("%d\n", n)
	}
	a, b := 0, 1
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return fmt.Sprintf("%d\n", b)
}

// -----------------------------------------------------------------------------
// Wrappers con validación que devuelven resp.Result.
// -----------------------------------------------------------------------------

func Reverse(params map[string]string) resp.Result {
	txt, ok := params["text"]
	if !ok {
		return resp.BadReq("text is required")
	}
	return resp.PlainOK(reverseCore(txt))
}

func ToUpper(params map[string]string) resp.Result {
	txt, ok := params["text"]
	if !ok {
		return resp.BadReq("text is required")
	}
	return resp.PlainOK(toUpperCore(txt))
}

func Hash(params map[string]string) resp.Result {
	txt, ok := params["text"]
	if !ok {
		return resp.BadReq("text is required")
	}
	return resp.JSONOK(hashCore(txt))
}

func Timestamp(map[string]string) resp.Result { return resp.JSONOK(timestampCore(time.Now())) }

func Help(map[string]string) resp.Result { return resp.PlainOK(helpText()) }

// /random?count=n&min=a&max=b
func Random(params map[string]string) resp.Result {
	var (
		count = 1
		min   int
		max   int
		err   error
	)
	if v, ok := params["count"]; ok {
		if count, err = strconv.Atoi(v); err != nil {
			return resp.BadReq("count must be integer")
		}
	}
	if v, ok := params["min"]; ok {
		if min, err = strconv.Atoi(v); err != nil {
			return resp.BadReq("min must be integer")
		}
	}
	if v, ok := params["max"]; ok {
		if max, err = strconv.Atoi(v); err != nil {
			return resp.BadReq("max must be integer")
		}
	}
	return resp.JSONOK(randomCore(count, min, max))
}

// /fibonacci?num=N
func Fibonacci(params map[string]string) resp.Result {
	v, ok := params["num"]
	if !ok {
		return resp.BadReq("num is required")
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 92 {
		return resp.BadReq("num must be integer in [0,92]")
	}
	return resp.PlainOK(fibonacciCore(n))
}

package router

import (
	"bufio"
	"strings"
)

func bufioFrom(s string) *bufio.Reader { return bufio.NewReader(strings.NewReader(s)) }

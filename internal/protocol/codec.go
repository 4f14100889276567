// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Encode escreve a forma de wire de resp em w (spec.md §6.2).
func Encode(w io.Writer, resp Response) error {
	var sb strings.Builder
	resp.Encode(&sb)
	if sb.Len() == 0 {
		return nil
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

// Decoded é a forma recuperada do lado do cliente de uma resposta lida do
// wire, usada para verificar o round-trip de Lines (Testable Property 3) e
// em testes de integração do protocolo.
type Decoded struct {
	Kind   string // "ok:0", "ok:l", "ok:b", "err:<tag>"
	Lines  []string
	Binary []byte
}

// Decode lê exatamente uma resposta de r.
func Decode(r *bufio.Reader) (Decoded, error) {
	tag, err := r.ReadString('\n')
	if err != nil {
		return Decoded{}, fmt.Errorf("reading response tag: %w", err)
	}
	tag = strings.TrimSuffix(tag, "\n")

	switch {
	case tag == "ok:0":
		return Decoded{Kind: "ok:0"}, nil
	case strings.HasPrefix(tag, "ok:l"):
		declared, err := strconv.Atoi(tag[len("ok:l"):])
		if err != nil {
			return Decoded{}, fmt.Errorf("parsing declared line count: %w", err)
		}
		lines, err := readDeclaredLines(r, declared)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: "ok:l", Lines: lines}, nil
	case strings.HasPrefix(tag, "ok:b"):
		n, err := strconv.Atoi(tag[len("ok:b"):])
		if err != nil {
			return Decoded{}, fmt.Errorf("parsing declared byte count: %w", err)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Decoded{}, fmt.Errorf("reading binary payload: %w", err)
		}
		return Decoded{Kind: "ok:b", Binary: buf}, nil
	case strings.HasPrefix(tag, "err:"):
		return Decoded{Kind: tag}, nil
	default:
		return Decoded{}, fmt.Errorf("unrecognized response tag %q", tag)
	}
}

// readDeclaredLines lê exatamente `declared` linhas físicas do wire. O valor
// declarado conta tanto os itens originais quanto qualquer '\n' embutido
// neles (spec.md §4.5), então as linhas físicas recuperadas aqui não
// correspondem 1:1 aos itens lógicos originais quando algum item contém um
// '\n' embutido: a fronteira entre itens não é marcada no wire, só o total
// de newlines a consumir. Quem conhece o esquema do comando em questão (e
// portanto sabe quantos '\n' cada item contribuiu) usa RecombineLines para
// desfazer exatamente a codificação de Lines.Encode.
func readDeclaredLines(r *bufio.Reader, declared int) ([]string, error) {
	raw := make([]string, 0, declared)
	for i := 0; i < declared; i++ {
		chunk, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("reading declared line %d/%d: %w", i+1, declared, err)
		}
		raw = append(raw, strings.TrimSuffix(chunk, "\n"))
	}
	return raw, nil
}

// RecombineLines desfaz Lines.Encode: dado o conjunto de linhas físicas lido
// do wire (Decoded.Lines) e a contagem de '\n' embutidos em cada item
// original (embeddedPerItem, na mesma ordem dos itens originais), devolve a
// lista lógica original. sum(1+embeddedPerItem[i]) deve ser igual a
// len(raw); caso contrário o esquema informado não corresponde ao stream.
func RecombineLines(raw []string, embeddedPerItem []int) ([]string, error) {
	items := make([]string, 0, len(embeddedPerItem))
	pos := 0
	for _, embedded := range embeddedPerItem {
		take := embedded + 1
		if pos+take > len(raw) {
			return nil, fmt.Errorf("recombining lines: schema expects %d physical lines, only %d available", pos+take, len(raw))
		}
		items = append(items, strings.Join(raw[pos:pos+take], "\n"))
		pos += take
	}
	if pos != len(raw) {
		return nil, fmt.Errorf("recombining lines: %d physical lines left unconsumed", len(raw)-pos)
	}
	return items, nil
}

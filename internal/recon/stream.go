package recon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

const NDJSONContentType = "application/x-ndjson"

type flusher interface{ Flush() }

// WriteNDJSON пишет события построчно и сбрасывает буфер после каждой строки.
// Возвращает последнее событие потока. После ошибки записи поток дочитывается
// вхолостую, чтобы не держать горутину пакета.
func WriteNDJSON(w io.Writer, events <-chan BatchEvent) (BatchEvent, error) {
	enc := json.NewEncoder(w)
	f, _ := w.(flusher)

	var (
		last BatchEvent
		werr error
	)
	for ev := range events {
		last = ev
		if werr != nil {
			continue
		}
		if werr = enc.Encode(ev); werr != nil {
			continue
		}
		if f != nil {
			f.Flush()
		}
	}
	return last, werr
}

// ReadNDJSON читает поток событий и отдаёт каждое в fn. Ошибка fn прерывает чтение.
func ReadNDJSON(r io.Reader, fn func(BatchEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev BatchEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}

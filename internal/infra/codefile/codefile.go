// Package codefile читает списки кодов для пакетного сканирования: текст (код на строку)
// или .xlsx (коды в первой колонке активного листа).
package codefile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrEmpty = errors.New("codefile: no codes found")

// headers — подписи колонки, которые пропускаются в первой строке.
var headers = map[string]bool{"code": true, "codes": true, "код": true, "коды": true, "qr": true}

// FromText — по коду на строку, пустые строки и строки с # пропускаются.
func FromText(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// FromXLSX читает первую колонку активного листа. Заголовок в первой строке допускается.
func FromXLSX(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var out []string
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(row[0])
		if v == "" {
			continue
		}
		if i == 0 && headers[strings.ToLower(v)] {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// Read выбирает формат по расширению имени файла.
func Read(name string, r io.Reader) ([]string, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return FromXLSX(data)
	}
	return FromText(r)
}

// WriteXLSX пишет коды в первую колонку нового файла под заголовком "code".
func WriteXLSX(w io.Writer, list []string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetCellValue(sheet, "A1", "code"); err != nil {
		return err
	}
	for i, c := range list {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, c); err != nil {
			return err
		}
	}
	return f.Write(w)
}

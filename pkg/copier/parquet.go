package copier

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Field describes one column of a parquet output schema.
type Field struct {
	Name     string
	DataType string
}

// Schema is a per-sourceType parquet schema. Merged JSONL payloads of a
// sourceType with a registered schema are written as parquet instead of
// concatenated text.
type Schema struct {
	Fields []Field
}

// encodeParquet converts JSONL payload bytes into a snappy-compressed
// parquet file. Lines that are not valid JSON objects fail the conversion;
// columns absent from a record are written as nulls.
func encodeParquet(payload []byte, schema *Schema) ([]byte, int64, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(parquetSchemaDef(schema), pfw, 4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var rows int64
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, rows, fmt.Errorf("line %d is not a JSON object: %w", rows+1, err)
		}
		row := make(map[string]any, len(schema.Fields))
		for _, f := range schema.Fields {
			row[f.Name] = record[f.Name]
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, rows, fmt.Errorf("failed to write parquet row: %w", err)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		_ = pw.WriteStop()
		_ = pfw.Close()
		return nil, rows, err
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, rows, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	_ = pfw.Close()
	return buf.Bytes(), rows, nil
}

func parquetSchemaDef(schema *Schema) string {
	fields := make([]map[string]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", f.Name, parquetPhysicalType(f.DataType)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetPhysicalType(dataType string) string {
	switch strings.ToUpper(dataType) {
	case "BOOLEAN":
		return "BOOLEAN"
	case "INTEGER", "INT", "BIGINT":
		return "INT64"
	case "FLOAT", "DOUBLE", "NUMBER", "NUMERIC", "DECIMAL":
		return "DOUBLE"
	default:
		return "BYTE_ARRAY"
	}
}

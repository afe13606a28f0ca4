package ormcache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// cell 带类型标记的单元格，JSON 往返后 Go 类型与精度不变
type cell struct {
	T string `json:"t"`
	V string `json:"v,omitempty"`
}

const (
	cellNil    = "n"
	cellInt    = "i"
	cellUint   = "u"
	cellFloat  = "f"
	cellBool   = "b"
	cellString = "s"
	cellBytes  = "x"
	cellTime   = "t"
	cellJSON   = "j"
)

func encodeRows(rows []map[string]any) ([]byte, error) {
	out := make([]map[string]cell, len(rows))
	for i, row := range rows {
		enc := make(map[string]cell, len(row))
		for col, v := range row {
			c, err := encodeCell(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			enc[col] = c
		}
		out[i] = enc
	}
	return json.Marshal(out)
}

func decodeRows(data []byte) ([]map[string]any, error) {
	var in []map[string]cell
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(in))
	for i, enc := range in {
		row := make(map[string]any, len(enc))
		for col, c := range enc {
			v, err := decodeCell(c)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = v
		}
		rows[i] = row
	}
	return rows, nil
}

func encodeCell(v any) (cell, error) {
	switch x := v.(type) {
	case nil:
		return cell{T: cellNil}, nil
	case int:
		return cell{T: cellInt, V: strconv.FormatInt(int64(x), 10)}, nil
	case int8:
		return cell{T: cellInt, V: strconv.FormatInt(int64(x), 10)}, nil
	case int16:
		return cell{T: cellInt, V: strconv.FormatInt(int64(x), 10)}, nil
	case int32:
		return cell{T: cellInt, V: strconv.FormatInt(int64(x), 10)}, nil
	case int64:
		return cell{T: cellInt, V: strconv.FormatInt(x, 10)}, nil
	case uint:
		return cell{T: cellUint, V: strconv.FormatUint(uint64(x), 10)}, nil
	case uint8:
		return cell{T: cellUint, V: strconv.FormatUint(uint64(x), 10)}, nil
	case uint16:
		return cell{T: cellUint, V: strconv.FormatUint(uint64(x), 10)}, nil
	case uint32:
		return cell{T: cellUint, V: strconv.FormatUint(uint64(x), 10)}, nil
	case uint64:
		return cell{T: cellUint, V: strconv.FormatUint(x, 10)}, nil
	case float32:
		return cell{T: cellFloat, V: strconv.FormatFloat(float64(x), 'g', -1, 32)}, nil
	case float64:
		return cell{T: cellFloat, V: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case bool:
		return cell{T: cellBool, V: strconv.FormatBool(x)}, nil
	case string:
		return cell{T: cellString, V: x}, nil
	case []byte:
		return cell{T: cellBytes, V: base64.StdEncoding.EncodeToString(x)}, nil
	case time.Time:
		return cell{T: cellTime, V: x.Format(time.RFC3339Nano)}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return cell{}, err
	}
	return cell{T: cellJSON, V: string(raw)}, nil
}

func decodeCell(c cell) (any, error) {
	switch c.T {
	case cellNil:
		return nil, nil
	case cellInt:
		return strconv.ParseInt(c.V, 10, 64)
	case cellUint:
		return strconv.ParseUint(c.V, 10, 64)
	case cellFloat:
		return strconv.ParseFloat(c.V, 64)
	case cellBool:
		return strconv.ParseBool(c.V)
	case cellString:
		return c.V, nil
	case cellBytes:
		return base64.StdEncoding.DecodeString(c.V)
	case cellTime:
		return time.Parse(time.RFC3339Nano, c.V)
	case cellJSON:
		// 未知类型保留数字原文
		dec := json.NewDecoder(bytes.NewReader([]byte(c.V)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown cell type %q", c.T)
}

package csvimport

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Decode 把清洗后的行解码为创建 DTO；DTO 用小写 mapstructure 标签匹配清洗后的键
func Decode[C any](rows []Row) ([]C, error) {
	out := make([]C, 0, len(rows))
	for i, row := range rows {
		var dto C
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &dto,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			),
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(map[string]any(row)); err != nil {
			return nil, fmt.Errorf("csv: decode row %d: %w", i+1, err)
		}
		out = append(out, dto)
	}
	return out, nil
}

package database

import (
	"fmt"

	"github.com/uptrace/bun"
)

// Reading is one cycle of one engine unit. Column names match the C-MAPSS layout.
type Reading struct {
	UnitNumber          int     `bun:"unit_number,notnull"`
	TimeInCycles        int     `bun:"time_in_cycles,notnull"`
	OperationalSetting1 float64 `bun:"operational_setting_1"`
	OperationalSetting2 float64 `bun:"operational_setting_2"`
	OperationalSetting3 float64 `bun:"operational_setting_3"`
	SensorMeasurement1  float64 `bun:"sensor_measurement_1"`
	SensorMeasurement2  float64 `bun:"sensor_measurement_2"`
	SensorMeasurement3  float64 `bun:"sensor_measurement_3"`
	SensorMeasurement4  float64 `bun:"sensor_measurement_4"`
	SensorMeasurement5  float64 `bun:"sensor_measurement_5"`
	SensorMeasurement6  float64 `bun:"sensor_measurement_6"`
	SensorMeasurement7  float64 `bun:"sensor_measurement_7"`
	SensorMeasurement8  float64 `bun:"sensor_measurement_8"`
	SensorMeasurement9  float64 `bun:"sensor_measurement_9"`
	SensorMeasurement10 float64 `bun:"sensor_measurement_10"`
	SensorMeasurement11 float64 `bun:"sensor_measurement_11"`
	SensorMeasurement12 float64 `bun:"sensor_measurement_12"`
	SensorMeasurement13 float64 `bun:"sensor_measurement_13"`
	SensorMeasurement14 float64 `bun:"sensor_measurement_14"`
	SensorMeasurement15 float64 `bun:"sensor_measurement_15"`
	SensorMeasurement16 float64 `bun:"sensor_measurement_16"`
	SensorMeasurement17 float64 `bun:"sensor_measurement_17"`
	SensorMeasurement18 float64 `bun:"sensor_measurement_18"`
	SensorMeasurement19 float64 `bun:"sensor_measurement_19"`
	SensorMeasurement20 float64 `bun:"sensor_measurement_20"`
	SensorMeasurement21 float64 `bun:"sensor_measurement_21"`
	Dataset             string  `bun:"dataset,notnull"`
}

type TrainingRecord struct {
	bun.BaseModel `bun:"table:training_data"`
	Reading
	RUL int `bun:"rul"`
}

type TestRecord struct {
	bun.BaseModel `bun:"table:test_data"`
	Reading
}

type RULRecord struct {
	bun.BaseModel `bun:"table:rul_data"`

	UnitNumber int    `bun:"unit_number,notnull"`
	Dataset    string `bun:"dataset,notnull"`
	RUL        int    `bun:"rul"`
}

// readingColumns lists the C-MAPSS columns in file order.
var readingColumns = func() []string {
	cols := []string{"unit_number", "time_in_cycles",
		"operational_setting_1", "operational_setting_2", "operational_setting_3"}
	for i := 1; i <= 21; i++ {
		cols = append(cols, fmt.Sprintf("sensor_measurement_%d", i))
	}
	return cols
}()

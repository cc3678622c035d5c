/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gps

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RMC is a decoded $GPRMC "recommended minimum" sentence: the one message
// kind spec.md section 4.6 reads for UTC and position.
type RMC struct {
	UTC     time.Time
	Valid   bool
	LatDeg  float64
	LongDeg float64
}

// ErrNotRMC is returned by ParseRMC when handed a sentence of a different
// talker/message type; the caller should simply ignore it and keep reading.
var ErrNotRMC = fmt.Errorf("gps: not an RMC sentence")

// ParseRMC decodes one NMEA 0183 RMC sentence, e.g.
// "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A".
// No other sentence type carries both UTC and a fix in one message, which
// is why the original forwarder's gps.c keys its sync exclusively off RMC.
func ParseRMC(line string) (RMC, error) {
	var r RMC

	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}
	if !strings.HasPrefix(line, "$") {
		return r, fmt.Errorf("gps: sentence missing '$' prefix")
	}
	fields := strings.Split(line[1:], ",")
	if !strings.HasSuffix(fields[0], "RMC") {
		return r, ErrNotRMC
	}
	if len(fields) < 10 {
		return r, fmt.Errorf("gps: RMC sentence has only %d fields", len(fields))
	}

	timeOfDay := fields[1]
	status := fields[2]
	lat := fields[3]
	latHemi := fields[4]
	long := fields[5]
	longHemi := fields[6]
	date := fields[9]

	r.Valid = status == "A"

	utc, err := parseTimeDate(timeOfDay, date)
	if err != nil {
		return r, fmt.Errorf("gps: %w", err)
	}
	r.UTC = utc

	if r.Valid {
		latDeg, err := parseCoordinate(lat, 2)
		if err != nil {
			return r, fmt.Errorf("gps: latitude: %w", err)
		}
		if latHemi == "S" {
			latDeg = -latDeg
		}
		longDeg, err := parseCoordinate(long, 3)
		if err != nil {
			return r, fmt.Errorf("gps: longitude: %w", err)
		}
		if longHemi == "W" {
			longDeg = -longDeg
		}
		r.LatDeg = latDeg
		r.LongDeg = longDeg
	}

	return r, nil
}

// parseTimeDate combines NMEA's "hhmmss.ss" time-of-day and "ddmmyy" date
// fields into a UTC instant.
func parseTimeDate(timeOfDay, date string) (time.Time, error) {
	if len(timeOfDay) < 6 || len(date) != 6 {
		return time.Time{}, fmt.Errorf("malformed time/date fields %q/%q", timeOfDay, date)
	}
	layout := "020106150405"
	value := date + timeOfDay[:6]
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", value, err)
	}
	if len(timeOfDay) > 7 {
		frac, err := strconv.ParseFloat(timeOfDay[6:], 64)
		if err == nil {
			t = t.Add(time.Duration(frac * float64(time.Second)))
		}
	}
	return t.UTC(), nil
}

// parseCoordinate decodes NMEA's "ddmm.mmmm" / "dddmm.mmmm" degrees+minutes
// format into decimal degrees. degDigits is 2 for latitude, 3 for longitude.
func parseCoordinate(s string, degDigits int) (float64, error) {
	if len(s) <= degDigits {
		return 0, fmt.Errorf("malformed coordinate %q", s)
	}
	deg, err := strconv.ParseFloat(s[:degDigits], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(s[degDigits:], 64)
	if err != nil {
		return 0, err
	}
	return deg + min/60.0, nil
}

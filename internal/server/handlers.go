package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/muurk/homelight/internal/cache"
	"github.com/muurk/homelight/internal/protocol"
)

// maxBodyBytes caps PUT bodies; values are a few characters
const maxBodyBytes = 64

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Devices())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.bridge.Device(deviceID(r))
	if err != nil {
		writeBridgeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// readState fetches device state and writes the error response on failure
func (s *Server) readState(w http.ResponseWriter, r *http.Request, force bool) (protocol.LightInfo, bool) {
	info, err := s.bridge.GetFresh(r.Context(), deviceID(r), force)
	if err != nil {
		var last *protocol.LightInfo
		if errors.Is(err, cache.ErrStale) && !errors.Is(err, cache.ErrNoData) {
			last = &info
		}
		writeBridgeError(w, err, last)
		return protocol.LightInfo{}, false
	}
	return info, true
}

// handleLightState always asks the light for its current state
func (s *Server) handleLightState(w http.ResponseWriter, r *http.Request) {
	info, ok := s.readState(w, r, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetPower(w http.ResponseWriter, r *http.Request) {
	info, ok := s.readState(w, r, false)
	if !ok {
		return
	}
	if info.IsOn {
		writeText(w, http.StatusOK, "1")
		return
	}
	writeText(w, http.StatusOK, "0")
}

func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var on bool
	switch strings.ToUpper(body) {
	case "ON":
		on = true
	case "OFF":
		on = false
	default:
		writeBadRequest(w, `unexpected input, requires "ON" or "OFF"`)
		return
	}

	if err := s.bridge.SetPower(deviceID(r), on); err != nil {
		writeBridgeError(w, err, nil)
		return
	}
	writeText(w, http.StatusOK, "Power state set")
}

func (s *Server) handleGetBrightness(w http.ResponseWriter, r *http.Request) {
	info, ok := s.readState(w, r, false)
	if !ok {
		return
	}
	writeText(w, http.StatusOK, strconv.Itoa(percent(info.Color.V)))
}

func (s *Server) handleSetBrightness(w http.ResponseWriter, r *http.Request) {
	s.setPercent(w, r, cache.FieldValue, "Brightness set")
}

func (s *Server) handleGetHue(w http.ResponseWriter, r *http.Request) {
	info, ok := s.readState(w, r, false)
	if !ok {
		return
	}
	hue := int(math.Max(0, math.Min(math.Round(info.Color.H), 360)))
	writeText(w, http.StatusOK, strconv.Itoa(hue))
}

func (s *Server) handleSetHue(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	hue, err := strconv.ParseFloat(body, 64)
	if err != nil || math.IsNaN(hue) || math.IsInf(hue, 0) {
		writeBadRequest(w, fmt.Sprintf("parsing error: %q is not a number", body))
		return
	}

	if err := s.bridge.SetColor(r.Context(), deviceID(r), cache.FieldHue, hue); err != nil {
		writeBridgeError(w, err, nil)
		return
	}
	writeText(w, http.StatusOK, "Hue set")
}

func (s *Server) handleGetSaturation(w http.ResponseWriter, r *http.Request) {
	info, ok := s.readState(w, r, false)
	if !ok {
		return
	}
	writeText(w, http.StatusOK, strconv.Itoa(percent(info.Color.S)))
}

func (s *Server) handleSetSaturation(w http.ResponseWriter, r *http.Request) {
	s.setPercent(w, r, cache.FieldSaturation, "Saturation set")
}

// setPercent handles PUT bodies holding an integer percentage. Values are
// parsed as a byte and anything above 100 is treated as 100.
func (s *Server) setPercent(w http.ResponseWriter, r *http.Request, field cache.Field, done string) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	n, err := strconv.ParseUint(body, 10, 8)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("parsing error: %q is not an integer from 0 to 255", body))
		return
	}

	value := math.Min(float64(n)/100, 1)
	if err := s.bridge.SetColor(r.Context(), deviceID(r), field, value); err != nil {
		writeBridgeError(w, err, nil)
		return
	}
	writeText(w, http.StatusOK, done)
}

// readBody returns the trimmed request body
func readBody(r *http.Request) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > maxBodyBytes {
		return "", fmt.Errorf("body larger than %d bytes", maxBodyBytes)
	}
	return strings.TrimSpace(string(data)), nil
}

// percent maps a [0,1] component onto 0..100
func percent(v float64) int {
	return int(math.Max(0, math.Min(math.Round(v*100), 100)))
}

package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// clinicIDFromReq 从 X-Clinic-ID 头提取诊所 ID，缺失时直接返回 400
func clinicIDFromReq(w http.ResponseWriter, r *http.Request) (string, bool) {
	clinicID := r.Header.Get("X-Clinic-ID")
	if clinicID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("missing X-Clinic-ID header"))
		return "", false
	}
	return clinicID, true
}

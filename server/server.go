// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
)

// HumanPayload is a struct containing the types of data to be sent to
// clients, with a type tag selecting which field is live.
type HumanPayload struct {
	// T is the type of the payload
	T types.BasicKind

	// Bool holds a binary value
	Bool bool

	// Int holds an integer value
	Int int

	// Float holds a floating point value
	Float float64

	// String holds a string value
	String string

	// Buffer holds raw bytes
	Buffer []byte
}

// EncodeAndRespond converts the humanpayload to a smaller struct with only
// the relevant field and writes it to w as JSON.
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	switch hp.T {
	case types.Bool:
		obj := BoolT{Bool: hp.Bool}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(obj)
		if err != nil {
			fstr := fmt.Sprintf("error encoding bool data to json %q", err)
			log.Println(fstr)
			http.Error(w, fstr, http.StatusInternalServerError)
		}
	case types.Int:
		obj := IntT{Int: hp.Int}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(obj)
		if err != nil {
			fstr := fmt.Sprintf("error encoding int data to json %q", err)
			log.Println(fstr)
			http.Error(w, fstr, http.StatusInternalServerError)
		}
	case types.Float64:
		obj := FloatT{F64: hp.Float}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(obj)
		if err != nil {
			fstr := fmt.Sprintf("error encoding float data to json %q", err)
			log.Println(fstr)
			http.Error(w, fstr, http.StatusInternalServerError)
		}
	case types.String:
		obj := StrT{Str: hp.String}
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(obj)
		if err != nil {
			fstr := fmt.Sprintf("error encoding string data to json %q", err)
			log.Println(fstr)
			http.Error(w, fstr, http.StatusInternalServerError)
		}
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(hp.Buffer)
	}
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

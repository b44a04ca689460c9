// Package features turns a customer record into the numeric vector the churn
// model consumes, and derives the canonical digest used to identify a record.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Size is the number of model inputs.
const Size = 10

// Field names as they appear on the wire and in model artifacts.
const (
	CreditScore      = "CreditScore"
	Age              = "Age"
	Tenure           = "Tenure"
	Balance          = "Balance"
	NumOfProducts    = "NumOfProducts"
	HasCrCard        = "HasCrCard"
	IsActiveMember   = "IsActiveMember"
	EstimatedSalary  = "EstimatedSalary"
	GeographyGermany = "Geography_Germany"
	GeographySpain   = "Geography_Spain"
)

// order is the model input order. France has no column: it is the
// all-zero geography baseline.
var order = [Size]string{
	CreditScore,
	Age,
	Tenure,
	Balance,
	NumOfProducts,
	HasCrCard,
	IsActiveMember,
	EstimatedSalary,
	GeographyGermany,
	GeographySpain,
}

// Customer is one validated customer record. It is a comparable value type,
// so two records with equal fields are equal map keys.
type Customer struct {
	CreditScore      float64 `json:"CreditScore"`
	Age              float64 `json:"Age"`
	Tenure           float64 `json:"Tenure"`
	Balance          float64 `json:"Balance"`
	NumOfProducts    float64 `json:"NumOfProducts"`
	HasCrCard        float64 `json:"HasCrCard"`
	IsActiveMember   float64 `json:"IsActiveMember"`
	EstimatedSalary  float64 `json:"EstimatedSalary"`
	GeographyGermany float64 `json:"Geography_Germany"`
	GeographySpain   float64 `json:"Geography_Spain"`
}

// Vector is the model input in the fixed order returned by Names.
type Vector [Size]float64

// Names returns the model input names in vector order.
func Names() []string {
	names := make([]string, Size)
	copy(names, order[:])
	return names
}

// Build projects c onto the model input order.
func Build(c Customer) Vector {
	return Vector{
		c.CreditScore,
		c.Age,
		c.Tenure,
		c.Balance,
		c.NumOfProducts,
		c.HasCrCard,
		c.IsActiveMember,
		c.EstimatedSalary,
		c.GeographyGermany,
		c.GeographySpain,
	}
}

// Slice returns a copy of v as a slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, Size)
	copy(out, v[:])
	return out
}

// Finite reports whether every component is a finite number.
func (v Vector) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Key returns the hex SHA-256 digest of the canonical serialization of c:
// name=value pairs sorted by field name, values in shortest round-trip form.
func Key(c Customer) string {
	v := Build(c)
	pairs := make([]string, Size)
	for i, name := range order {
		x := v[i]
		if x == 0 {
			x = 0 // fold -0 into 0
		}
		pairs[i] = name + "=" + strconv.FormatFloat(x, 'g', -1, 64)
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, ";")))
	return hex.EncodeToString(sum[:])
}

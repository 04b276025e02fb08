package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDSN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"u:p@tcp(db:3306)/social", "u:p@tcp(db:3306)/social?parseTime=true&charset=utf8mb4"},
		{"u:p@tcp(db:3306)/social?loc=UTC", "u:p@tcp(db:3306)/social?loc=UTC&parseTime=true&charset=utf8mb4"},
		{"u:p@tcp(db:3306)/social?parseTime=true", "u:p@tcp(db:3306)/social?parseTime=true&charset=utf8mb4"},
		{"u:p@tcp(db:3306)/social?charset=utf8&parseTime=false", "u:p@tcp(db:3306)/social?charset=utf8&parseTime=false"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeDSN(tc.in), tc.in)
	}
}

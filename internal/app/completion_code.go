package app

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"allais-survey-service/internal/domain"
	"github.com/rotisserie/eris"
)

const (
	codePrefix      = "STUDY"
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeRandomChars = 4
	maxCodeAttempts = 10
)

// CodeGenerator issues completion codes of the form STUDY + 4 alphanumerics + 3 digits that are not
// yet used by any stored response.
type CodeGenerator struct {
	exists func(ctx context.Context, code string) (bool, error)

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCodeGenerator(responses ResponseRepository) *CodeGenerator {
	return newCodeGeneratorWithSource(responses.CodeExists, rand.NewSource(time.Now().UnixNano()))
}

func newCodeGeneratorWithSource(exists func(context.Context, string) (bool, error), src rand.Source) *CodeGenerator {
	return &CodeGenerator{exists: exists, rnd: rand.New(src)}
}

// Generate returns an unused code.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := g.candidate()
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", eris.Wrap(err, "check completion code")
		}
		if !taken {
			return code, nil
		}
	}
	return "", domain.ErrCodeSpaceExhausted
}

func (g *CodeGenerator) candidate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	buf := make([]byte, 0, len(codePrefix)+codeRandomChars+3)
	buf = append(buf, codePrefix...)
	for i := 0; i < codeRandomChars; i++ {
		buf = append(buf, codeAlphabet[g.rnd.Intn(len(codeAlphabet))])
	}
	suffix := g.rnd.Intn(1000)
	if suffix < 100 {
		buf = append(buf, '0')
	}
	if suffix < 10 {
		buf = append(buf, '0')
	}
	buf = strconv.AppendInt(buf, int64(suffix), 10)
	return string(buf)
}

package memory

import (
	"testing"

	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/repo/repotest"
)

var _ knowledge.Repository = (*Repository)(nil)

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) knowledge.Repository { return New() })
}

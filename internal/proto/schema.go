package proto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// BuildSchema reflects the wire envelope into a JSON schema document. The
// schema is consumed by client codegen and by the drift check below.
func BuildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(Message))
	schema.Title = "ECS sync wire protocol"
	schema.Description = "Envelope and payload fields for every message type exchanged between client and server"
	return schema
}

var (
	schemaHashOnce sync.Once
	schemaHash     string
	schemaHashErr  error
)

// SchemaHash returns a stable digest of the reflected protocol schema.
// ConnectResponse carries it so peers built against a different message set
// notice the drift at connect time instead of failing mid-session.
func SchemaHash() (string, error) {
	schemaHashOnce.Do(func() {
		data, err := json.Marshal(BuildSchema())
		if err != nil {
			schemaHashErr = fmt.Errorf("marshal protocol schema: %w", err)
			return
		}
		sum := sha256.Sum256(data)
		schemaHash = hex.EncodeToString(sum[:16])
	})
	return schemaHash, schemaHashErr
}

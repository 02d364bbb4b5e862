package seed

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// UUIDs сохраняет идентификаторы-UUID, а остальные детерминированно переводит в UUID версии 5.
func UUIDs(legacy string) string {
	if legacy == "" {
		return uuid.NewString()
	}
	if id, err := uuid.Parse(legacy); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(legacy)).String()
}

// ObjectIDs сохраняет идентификаторы ObjectID и выдаёт новые для остальных.
func ObjectIDs(legacy string) string {
	if oid, err := bson.ObjectIDFromHex(legacy); err == nil {
		return oid.Hex()
	}
	return bson.NewObjectID().Hex()
}

// ForStorage возвращает способ назначения идентификаторов для вида хранилища.
func ForStorage(kind string) IDFunc {
	if kind == "mongo" {
		return ObjectIDs
	}
	return UUIDs
}

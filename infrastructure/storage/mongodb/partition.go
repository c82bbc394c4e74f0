package mongodb

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/felixgeelhaar/eventstore-go/domain/storage"
)

// Partitioned collections keep the document id in logicalIDField, unique per
// partition through partitionIDIndex, so that two users can hold the same id.
// The physical _id is a generated uuid that never leaves the driver.
const (
	logicalIDField   = storage.FieldID
	partitionIDIndex = "_id_partition_"
)

// storedField maps a document field to the field it is stored under.
func storedField(c storage.Collection, field string) string {
	if c.Partitioned() && field == storage.FieldDBID {
		return logicalIDField
	}
	return field
}

// toStored prepares a document for insertion. A missing _id is generated
// on doc itself so that callers learn it.
func toStored(c storage.Collection, doc storage.Document) storage.Document {
	if doc.IsNull(storage.FieldDBID) {
		doc[storage.FieldDBID] = uuid.NewString()
	}
	if !c.Partitioned() {
		return doc
	}
	stored := make(storage.Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored[logicalIDField] = doc[storage.FieldDBID]
	stored[storage.FieldDBID] = uuid.NewString()
	return stored
}

// fromStored turns a decoded document back into its logical form.
func fromStored(c storage.Collection, raw bson.M) storage.Document {
	doc := normalizeDocument(raw)
	if !c.Partitioned() {
		return doc
	}
	delete(doc, storage.FieldDBID)
	if id, ok := doc[logicalIDField]; ok {
		doc[storage.FieldDBID] = id
		delete(doc, logicalIDField)
	}
	return doc
}

// partitionIDModel is the unique index backing per-partition ids.
func partitionIDModel(c storage.Collection) mongo.IndexModel {
	return mongo.IndexModel{
		Keys: bson.D{
			{Key: c.PartitionKey, Value: 1},
			{Key: logicalIDField, Value: 1},
		},
		Options: options.Index().SetName(partitionIDIndex).SetUnique(true),
	}
}

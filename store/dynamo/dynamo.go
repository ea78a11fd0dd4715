package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/store"
)

// historyLimit caps how many versions a single history query returns.
// Autosave every couple of seconds can pile up versions quickly; the UI
// only ever pages through the most recent ones.
const historyLimit = 200

type DynamoFieldmarkStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoFieldmarkStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoFieldmarkStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoFieldmarkStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoFieldmarkStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()

	du := userToDynamo(user)
	du.Created = time.Now().Unix()
	du, _, err = ensureItem(dynamoStore, ctx, du)
	if err != nil {
		return models.User{}, err
	}

	user = userFromDynamo(du)
	return user, nil
}

func (dynamoStore *DynamoFieldmarkStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}

	user := userFromDynamo(du)
	return user, nil
}

func (dynamoStore *DynamoFieldmarkStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", "", "")
}

func (dynamoStore *DynamoFieldmarkStore) IncrementUserSaveCount(ctx context.Context, provider string, providerId string, count int) error {
	// Strict mode: only increment if user exists (prevents partial records after delete)
	return incrementCounter(dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", "SaveCount", count, false)
}

func (dynamoStore *DynamoFieldmarkStore) GetCurrentAnnotation(ctx context.Context, photoId string) (*models.MediaAnnotation, error) {
	pk := photoPK(photoId)

	meta, err := getItem[dynamoAnnotationMeta](dynamoStore, ctx, pk, metaSK, true)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return nil, nil // Never annotated
		}
		return nil, err
	}
	if meta.DeletedAt > 0 || meta.CurrentVersion == 0 {
		return nil, nil
	}

	da, err := getItem[dynamoAnnotation](dynamoStore, ctx, pk, versionSK(meta.CurrentVersion), true)
	if err != nil {
		return nil, err
	}
	if da.DeletedAt > 0 {
		return nil, nil
	}

	rec, err := annotationFromDynamo(da)
	if err != nil {
		return nil, err
	}
	rec.IsCurrent = true
	return &rec, nil
}

func (dynamoStore *DynamoFieldmarkStore) GetAnnotationVersion(ctx context.Context, photoId string, version int) (models.MediaAnnotation, error) {
	pk := photoPK(photoId)

	da, err := getItem[dynamoAnnotation](dynamoStore, ctx, pk, versionSK(version), false)
	if err != nil {
		return models.MediaAnnotation{}, err
	}
	if da.DeletedAt > 0 {
		return models.MediaAnnotation{}, store.ErrItemNotFound
	}

	rec, err := annotationFromDynamo(da)
	if err != nil {
		return models.MediaAnnotation{}, err
	}

	meta, err := getItem[dynamoAnnotationMeta](dynamoStore, ctx, pk, metaSK, false)
	if err == nil {
		rec.IsCurrent = meta.DeletedAt == 0 && meta.CurrentVersion == version
	}
	return rec, nil
}

func (dynamoStore *DynamoFieldmarkStore) GetAnnotationHistory(ctx context.Context, photoId string, limit int) ([]models.MediaAnnotation, error) {
	pk := photoPK(photoId)

	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}

	meta, err := getItem[dynamoAnnotationMeta](dynamoStore, ctx, pk, metaSK, false)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return []models.MediaAnnotation{}, nil
		}
		return nil, err
	}
	if meta.DeletedAt > 0 {
		return []models.MediaAnnotation{}, nil
	}

	// Newest first (ScanIndexForward: false); zero-padded sort keys make
	// lexicographic order match version order.
	rows, err := queryAllByPKPrefix[dynamoAnnotation](dynamoStore, ctx, pk, "V#", false, int32(limit))
	if err != nil {
		return nil, err
	}

	records := make([]models.MediaAnnotation, 0, len(rows))
	for _, da := range rows {
		if da.DeletedAt > 0 {
			continue
		}
		rec, err := annotationFromDynamo(da)
		if err != nil {
			return nil, err
		}
		rec.IsCurrent = da.Version == meta.CurrentVersion
		records = append(records, rec)
	}
	return records, nil
}

func (dynamoStore *DynamoFieldmarkStore) AppendAnnotation(ctx context.Context, rec models.MediaAnnotation) (models.MediaAnnotation, error) {
	pk := photoPK(rec.JobMediaId)

	// Two writers racing the same next version lose the transaction's
	// conditional check; re-read the pointer and try again.
	for attempt := 0; attempt < 3; attempt++ {
		current := 0
		metaExists := true
		meta, err := getItem[dynamoAnnotationMeta](dynamoStore, ctx, pk, metaSK, true)
		if err != nil {
			if !errors.Is(err, store.ErrItemNotFound) {
				return models.MediaAnnotation{}, err
			}
			metaExists = false
		} else {
			if meta.DeletedAt > 0 {
				return models.MediaAnnotation{}, store.ErrItemNotFound
			}
			current = meta.CurrentVersion
		}

		recId, err := uuid.NewV7()
		if err != nil {
			return models.MediaAnnotation{}, err
		}
		rec.Id = recId.String()
		rec.Version = current + 1
		rec.CreatedAt = time.Now().UTC()
		rec.IsCurrent = true
		rec.DeletedAt = nil

		da, err := annotationToDynamo(rec)
		if err != nil {
			return models.MediaAnnotation{}, err
		}
		rowMap, err := attributevalue.MarshalMap(da)
		if err != nil {
			return models.MediaAnnotation{}, fmt.Errorf("marshal error: %w", err)
		}
		metaMap, err := attributevalue.MarshalMap(dynamoAnnotationMeta{
			PK:             pk,
			SK:             metaSK,
			CurrentVersion: rec.Version,
		})
		if err != nil {
			return models.MediaAnnotation{}, fmt.Errorf("marshal error: %w", err)
		}

		metaPut := types.Put{Item: metaMap}
		if metaExists {
			metaPut.ConditionExpression = aws.String("CurrentVersion = :v AND DeletedAt = :zero")
			metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
				":v":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", current)},
				":zero": &types.AttributeValueMemberN{Value: "0"},
			}
		} else {
			metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
		}

		err = transactPuts(dynamoStore, ctx, []types.Put{
			{Item: rowMap, ConditionExpression: aws.String("attribute_not_exists(PK)")},
			metaPut,
		})
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return models.MediaAnnotation{}, err
		}
	}

	return models.MediaAnnotation{}, store.ErrConditionFailed
}

func (dynamoStore *DynamoFieldmarkStore) SoftDeletePhotoAnnotations(ctx context.Context, photoId string) (int, error) {
	pk := photoPK(photoId)
	now := time.Now().Unix()

	meta, err := getItem[dynamoAnnotationMeta](dynamoStore, ctx, pk, metaSK, true)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return 0, nil // Never annotated; nothing to hide
		}
		return 0, err
	}

	rows, err := queryAllByPKPrefix[dynamoAnnotation](dynamoStore, ctx, pk, "V#", true, 0)
	if err != nil {
		return 0, err
	}

	// Rewrite rows with the deletion marker set. Batches of 25 is the
	// BatchWriteItem ceiling; the short pause keeps a large photo from
	// starving other writers.
	var writeRequests []types.WriteRequest
	marked := 0
	for _, da := range rows {
		if da.DeletedAt > 0 {
			continue
		}
		da.DeletedAt = now
		avMap, err := attributevalue.MarshalMap(da)
		if err != nil {
			return marked, fmt.Errorf("marshal error: %w", err)
		}
		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: avMap},
		})
		marked++
	}

	for i := 0; i < len(writeRequests); i += 25 {
		end := i + 25
		if end > len(writeRequests) {
			end = len(writeRequests)
		}
		if _, err := writeBatchRequests[dynamoAnnotation](dynamoStore, ctx, writeRequests[i:end]); err != nil {
			return marked, err
		}
		if end < len(writeRequests) {
			select {
			case <-ctx.Done():
				return marked, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	meta.DeletedAt = now
	metaMap, err := attributevalue.MarshalMap(meta)
	if err != nil {
		return marked, fmt.Errorf("marshal error: %w", err)
	}
	if _, err := writeBatchRequests[dynamoAnnotationMeta](dynamoStore, ctx, []types.WriteRequest{
		{PutRequest: &types.PutRequest{Item: metaMap}},
	}); err != nil {
		return marked, err
	}

	return marked, nil
}

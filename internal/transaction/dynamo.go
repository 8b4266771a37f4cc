package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"gorm.io/datatypes"

	"github.com/ksred/steam-billing-api/internal/types"
)

const (
	DefaultDynamoTable = "transactions"
	AgreementIndex     = "agreement-index"

	// fixed width so the index sort key orders lexically by time
	dynamoTimeLayout = "2006-01-02T15:04:05.000Z"
	dynamoDateLayout = "2006-01-02"
)

// DynamoAPI is the part of *dynamodb.Client the store uses
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps transactions in a DynamoDB table.
//
// Table requirements:
//   - PK: orderid (S), SK: transid (S)
//   - GSI agreement-index: PK agreement_key (S, "<steamid>#<agreementid>"), SK timeupdated (S)
type DynamoStore struct {
	ddb   DynamoAPI
	table string
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(ddb DynamoAPI, table string) *DynamoStore {
	if table == "" {
		table = DefaultDynamoTable
	}
	return &DynamoStore{ddb: ddb, table: table}
}

type dynamoItem struct {
	OrderID            string `dynamodbav:"orderid"`
	TransID            string `dynamodbav:"transid"`
	AgreementKey       string `dynamodbav:"agreement_key,omitempty"`
	SteamID            string `dynamodbav:"steamid"`
	Status             string `dynamodbav:"status"`
	Currency           string `dynamodbav:"currency"`
	Country            string `dynamodbav:"country"`
	USState            string `dynamodbav:"usstate,omitempty"`
	TimeCreated        string `dynamodbav:"timecreated"`
	TimeUpdated        string `dynamodbav:"timeupdated"`
	AgreementID        string `dynamodbav:"agreementid,omitempty"`
	AgreementStatus    string `dynamodbav:"agreementstatus,omitempty"`
	SubscriptionStatus string `dynamodbav:"subscription_status,omitempty"`
	NextPayment        string `dynamodbav:"nextpayment,omitempty"`
	ItemID             string `dynamodbav:"itemid"`
	Amount             string `dynamodbav:"amount"`
	VAT                string `dynamodbav:"vat"`
	Items              string `dynamodbav:"items,omitempty"`
}

func agreementKey(steamID, agreementID string) string {
	return steamID + "#" + agreementID
}

// Upsert writes the full item, replacing any previous version
func (s *DynamoStore) Upsert(ctx context.Context, tx *Transaction) error {
	av, err := attributevalue.MarshalMap(toDynamoItem(tx))
	if err != nil {
		return fmt.Errorf("%w: marshal transaction %s/%s: %v", types.ErrPersistence, tx.OrderID, tx.TransID, err)
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("%w: put transaction %s/%s: %v", types.ErrPersistence, tx.OrderID, tx.TransID, err)
	}
	return nil
}

func (s *DynamoStore) Find(ctx context.Context, orderID, transID string) (*Transaction, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"orderid": &ddbtypes.AttributeValueMemberS{Value: orderID},
			"transid": &ddbtypes.AttributeValueMemberS{Value: transID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", types.ErrPersistence, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("%w: unmarshal transaction: %v", types.ErrPersistence, err)
	}
	tx, err := fromDynamoItem(it)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *DynamoStore) ForAgreement(ctx context.Context, steamID, agreementID string) ([]Transaction, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(AgreementIndex),
		KeyConditionExpression: aws.String("agreement_key = :k"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":k": &ddbtypes.AttributeValueMemberS{Value: agreementKey(steamID, agreementID)},
		},
		ScanIndexForward: aws.Bool(false),
	}

	var txs []Transaction
	for {
		out, err := s.ddb.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: query agreement transactions: %v", types.ErrPersistence, err)
		}
		for _, raw := range out.Items {
			var it dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("%w: unmarshal transaction: %v", types.ErrPersistence, err)
			}
			tx, err := fromDynamoItem(it)
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return txs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func toDynamoItem(tx *Transaction) dynamoItem {
	it := dynamoItem{
		OrderID:            tx.OrderID,
		TransID:            tx.TransID,
		SteamID:            tx.SteamID,
		Status:             string(tx.Status),
		Currency:           tx.Currency,
		Country:            tx.Country,
		USState:            tx.USState,
		TimeCreated:        tx.TimeCreated.UTC().Format(dynamoTimeLayout),
		TimeUpdated:        tx.TimeUpdated.UTC().Format(dynamoTimeLayout),
		AgreementID:        tx.AgreementID,
		AgreementStatus:    tx.AgreementStatus,
		SubscriptionStatus: tx.SubscriptionStatus,
		ItemID:             tx.ItemID,
		Amount:             tx.Amount,
		VAT:                tx.VAT,
		Items:              string(tx.Items),
	}
	if tx.AgreementID != "" {
		it.AgreementKey = agreementKey(tx.SteamID, tx.AgreementID)
	}
	if tx.NextPayment != nil {
		it.NextPayment = tx.NextPayment.UTC().Format(dynamoDateLayout)
	}
	return it
}

func fromDynamoItem(it dynamoItem) (Transaction, error) {
	created, err := time.Parse(dynamoTimeLayout, it.TimeCreated)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: order %s/%s: bad timecreated %q", types.ErrPersistence, it.OrderID, it.TransID, it.TimeCreated)
	}
	updated, err := time.Parse(dynamoTimeLayout, it.TimeUpdated)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: order %s/%s: bad timeupdated %q", types.ErrPersistence, it.OrderID, it.TransID, it.TimeUpdated)
	}

	tx := Transaction{
		OrderID:            it.OrderID,
		TransID:            it.TransID,
		SteamID:            it.SteamID,
		Status:             types.TransactionStatus(it.Status),
		Currency:           it.Currency,
		Country:            it.Country,
		USState:            it.USState,
		TimeCreated:        created,
		TimeUpdated:        updated,
		AgreementID:        it.AgreementID,
		AgreementStatus:    it.AgreementStatus,
		SubscriptionStatus: it.SubscriptionStatus,
		ItemID:             it.ItemID,
		Amount:             it.Amount,
		VAT:                it.VAT,
	}
	if it.Items != "" {
		tx.Items = datatypes.JSON(it.Items)
	}
	if it.NextPayment != "" {
		next, err := time.Parse(dynamoDateLayout, it.NextPayment)
		if err != nil {
			return Transaction{}, fmt.Errorf("%w: order %s/%s: bad nextpayment %q", types.ErrPersistence, it.OrderID, it.TransID, it.NextPayment)
		}
		tx.NextPayment = &next
	}
	return tx, nil
}

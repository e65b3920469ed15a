package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCrtFromResponse(t *testing.T) {
	body := []byte(`{"data":{"client_crt":"-----BEGIN CERTIFICATE-----\nabc\n-----END CERTIFICATE-----"}}`)

	crt, err := ClientCrtFromResponse(body)
	require.NoError(t, err)
	assert.Contains(t, string(crt), "BEGIN CERTIFICATE")
}

func TestClientCrtFromResponseMissingField(t *testing.T) {
	_, err := ClientCrtFromResponse([]byte(`{"data":{}}`))
	assert.True(t, errors.Is(err, ErrNoClientCertificate))

	_, err = ClientCrtFromResponse([]byte(`not json`))
	assert.Error(t, err)
}

func TestBrokerURLFromResponse(t *testing.T) {
	body := []byte(`{"data":{"version":"1.1","protocols":{"astarte_mqtt_v1":{"broker_url":"mqtts://broker.example.com:8883"}}}}`)

	brokerURL, err := BrokerURLFromResponse(body, DefaultProtocol)
	require.NoError(t, err)
	assert.Equal(t, "mqtts://broker.example.com:8883", brokerURL)
}

func TestBrokerURLFromResponseMissingProtocol(t *testing.T) {
	body := []byte(`{"data":{"protocols":{"other_proto":{"broker_url":"mqtts://x"}}}}`)

	_, err := BrokerURLFromResponse(body, DefaultProtocol)
	assert.True(t, errors.Is(err, ErrNoBrokerURL))
}

func TestBrokerURLFromResponseEmptyField(t *testing.T) {
	body := []byte(`{"data":{"protocols":{"astarte_mqtt_v1":{"broker_url":""}}}}`)

	_, err := BrokerURLFromResponse(body, DefaultProtocol)
	assert.True(t, errors.Is(err, ErrNoBrokerURL))
}

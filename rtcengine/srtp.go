// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package rtcengine

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// srtpMasterKeyLen and srtpMasterSaltLen are fixed by the negotiated
// SRTP protection profile. This engine only ever offers
// AES_128_CM_HMAC_SHA1_80 in its DTLS config (runHandshake), so the
// sizes are constants rather than looked up per-profile.
const (
	srtpMasterKeyLen  = 16
	srtpMasterSaltLen = 14
	srtpKeyingLabel   = "EXTRACTOR-dtls_srtp"
)

// srtpKeys holds the four values RFC 5764 §4.2 derives from the DTLS
// exported keying material: one encrypt and one decrypt key+salt pair,
// assigned by handshake role (the engine is always the DTLS server, so
// it encrypts with the server key and decrypts with the client key).
type srtpKeys struct {
	encryptKey, encryptSalt []byte
	decryptKey, decryptSalt []byte
}

// deriveSRTPKeys splits the exported keying material per RFC 5764:
// client_write_key, server_write_key, client_write_salt, server_write_salt.
func deriveSRTPKeys(material []byte) (srtpKeys, error) {
	want := 2*srtpMasterKeyLen + 2*srtpMasterSaltLen
	if len(material) < want {
		return srtpKeys{}, fmt.Errorf("rtcengine: exported keying material is %d bytes, want %d", len(material), want)
	}
	offset := 0
	clientKey := material[offset : offset+srtpMasterKeyLen]
	offset += srtpMasterKeyLen
	serverKey := material[offset : offset+srtpMasterKeyLen]
	offset += srtpMasterKeyLen
	clientSalt := material[offset : offset+srtpMasterSaltLen]
	offset += srtpMasterSaltLen
	serverSalt := material[offset : offset+srtpMasterSaltLen]

	// This engine is always the DTLS server: it decrypts what the
	// client (browser) wrote and encrypts with the server's own keys.
	return srtpKeys{
		encryptKey:  serverKey,
		encryptSalt: serverSalt,
		decryptKey:  clientKey,
		decryptSalt: clientSalt,
	}, nil
}

// srtpCodec wraps the two pion/srtp contexts (encrypt, decrypt) an
// engine needs once its DTLS handshake has completed.
type srtpCodec struct {
	encrypt *srtp.Context
	decrypt *srtp.Context
}

func newSRTPCodec(keys srtpKeys) (*srtpCodec, error) {
	enc, err := srtp.CreateContext(keys.encryptKey, keys.encryptSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return nil, fmt.Errorf("rtcengine: creating SRTP encrypt context: %w", err)
	}
	dec, err := srtp.CreateContext(keys.decryptKey, keys.decryptSalt, srtp.ProtectionProfileAes128CmHmacSha1_80)
	if err != nil {
		return nil, fmt.Errorf("rtcengine: creating SRTP decrypt context: %w", err)
	}
	return &srtpCodec{encrypt: enc, decrypt: dec}, nil
}

// encryptRTP marshals header over payload and returns the SRTP-encrypted
// wire packet ready to transmit, preserving the header fields exactly
// (payload type, sequence number, timestamp, marker, SSRC).
func (c *srtpCodec) encryptRTP(header rtp.Header, payload []byte) ([]byte, error) {
	return c.encrypt.EncryptRTP(nil, payload, &header)
}

// decryptRTP recovers the plaintext RTP packet from an inbound SRTP
// datagram. This server never receives media from the peer, but the
// occasional keepalive or mis-multiplexed packet still lands here.
func (c *srtpCodec) decryptRTP(encrypted []byte) (*rtp.Packet, error) {
	var header rtp.Header
	plain, err := c.decrypt.DecryptRTP(nil, encrypted, &header)
	if err != nil {
		return nil, err
	}
	return &rtp.Packet{Header: header, Payload: plain}, nil
}

// decryptRTCP recovers a plaintext RTCP compound packet from an inbound
// SRTCP datagram. The peer's only steady-state RTCP traffic is receiver
// reports and keyframe-request feedback (PLI/FIR).
func (c *srtpCodec) decryptRTCP(encrypted []byte) ([]byte, error) {
	return c.decrypt.DecryptRTCP(nil, encrypted, nil)
}

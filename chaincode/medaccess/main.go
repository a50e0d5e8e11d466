package main

import (
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/medrex/medchain/chaincode/medaccess/contract"
)

func main() {
	cc, err := contractapi.NewChaincode(&contract.MedAccessContract{})
	if err != nil {
		panic("Error creating MedAccessContract: " + err.Error())
	}
	cc.Info.Title = "medaccess"
	cc.Info.Version = "1.0.0"

	if err := cc.Start(); err != nil {
		panic("Error starting chaincode: " + err.Error())
	}
}
